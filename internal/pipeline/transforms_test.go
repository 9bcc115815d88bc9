package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hubble/pkg/pool"
)

func TestRenameFields(t *testing.T) {
	record := pool.GetRecord()
	defer record.Release()
	record.Data["user_id"] = "u1"
	record.Data["plan"] = "pro"

	transform := RenameFields(map[string]string{"user_id": "userId"})
	out, err := transform(context.Background(), record)
	require.NoError(t, err)

	assert.Equal(t, "u1", out.Data["userId"])
	assert.Equal(t, "pro", out.Data["plan"])
	assert.NotContains(t, out.Data, "user_id")
}

func TestFilter(t *testing.T) {
	record := pool.GetRecord()
	defer record.Release()
	record.Data["deleted"] = true

	transform := Filter(func(r *pool.Record) bool {
		deleted, _ := r.Data["deleted"].(bool)
		return !deleted
	})

	out, err := transform(context.Background(), record)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDropFields(t *testing.T) {
	record := pool.GetRecord()
	defer record.Release()
	record.Data["_id"] = "1"
	record.Data["blob"] = "enormous"

	out, err := DropFields("blob", "missing")(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"_id": "1"}, out.Data)
}
