// Package pool provides example usage of the unified memory pool system.
package pool_test

import (
	"fmt"
	"sync"

	"github.com/ajitpratap0/hubble/pkg/pool"
)

// Example demonstrates basic usage of the unified record pool system.
// This shows how to get records from the pool and return them after use.
func Example() {
	// Get a record from the pool
	record := pool.GetRecord()
	defer record.Release() // Always release records when done

	// Set decoded document fields on the record
	record.SetData("_id", "66f2a19c")
	record.SetData("name", "Horsehead Ridge")
	record.SetData("updatedAt", "2024-01-15T10:30:00Z")

	// Access data
	if name, ok := record.Data["name"]; ok {
		fmt.Printf("Name: %v\n", name)
	}

	// Set metadata
	record.Metadata.Source = "hubble"
	record.SetMetadata("page", 3)

	// Output:
	// Name: Horsehead Ridge
}

// ExampleGetRecord shows how to safely use records from the pool.
func ExampleGetRecord() {
	// Get a record from the pool
	record := pool.GetRecord()

	// Always use defer to ensure the record is released
	defer record.Release()

	// Use the record
	record.SetData("stream", "observations")
	record.SetData("status", "active")

	fmt.Printf("Stream: %v\n", record.Data["stream"])

	// Output:
	// Stream: observations
}

// ExampleNewRecord demonstrates creating records with initial data.
func ExampleNewRecord() {
	// Decoded document from an API page
	data := map[string]interface{}{
		"_id":    "42",
		"status": "active",
		"score":  98.5,
	}

	// Create a new record with source and data
	record := pool.NewRecord("hubble", data)
	defer record.Release()

	// The record is pre-populated
	fmt.Printf("Source: %s\n", record.Metadata.Source)
	fmt.Printf("Status: %v\n", record.Data["status"])

	// Output:
	// Source: hubble
	// Status: active
}

// ExampleNewRecordFromPool shows building a record field by field with
// entirely pooled resources.
func ExampleNewRecordFromPool() {
	record := pool.NewRecordFromPool("hubble")
	defer record.Release()

	record.SetData("_id", "66f2a19c")
	record.SetStreamID("projects")
	record.SetEndpoint("https://api.example.com/projects/query")
	record.SetOffset(1200)

	fmt.Printf("Stream: %s\n", record.GetStreamID())
	fmt.Printf("Offset: %d\n", record.GetOffset())

	// Output:
	// Stream: projects
	// Offset: 1200
}

// ExampleNew demonstrates creating and using a generic pool.
func ExampleNew() {
	// Define a simple struct to pool
	type Buffer struct {
		data []byte
	}

	// Create a pool for Buffer objects
	bufferPool := pool.New(
		func() *Buffer {
			return &Buffer{
				data: make([]byte, 0, 1024), // Pre-allocate 1KB
			}
		},
		func(b *Buffer) {
			b.data = b.data[:0] // Reset the buffer
		},
	)

	// Get a buffer from the pool
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	// Use the buffer
	buf.data = append(buf.data, []byte("Hello, Hubble!")...)
	fmt.Printf("Buffer contains: %s\n", string(buf.data))

	// Output:
	// Buffer contains: Hello, Hubble!
}

// Example_concurrentUsage demonstrates thread-safe pool usage.
func Example_concurrentUsage() {
	var wg sync.WaitGroup
	recordCount := 0
	var mu sync.Mutex

	// Process records concurrently
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			// Get record from pool
			record := pool.GetRecord()
			defer record.Release()

			// Simulate processing
			record.SetData("worker_id", id)
			record.SetData("processed", true)

			// Count processed records (thread-safe)
			mu.Lock()
			recordCount++
			mu.Unlock()
		}(i)
	}

	wg.Wait()
	fmt.Printf("Processed %d records concurrently\n", recordCount)

	// Output:
	// Processed 3 records concurrently
}

// Example_batchProcessing shows efficient batch handling with the pooled
// batch slice.
func Example_batchProcessing() {
	batch := pool.GetBatchSlice(5)
	defer pool.PutBatchSlice(batch)

	// Fill the batch with records from one page
	for i := 0; i < 5; i++ {
		record := pool.GetRecord()
		record.SetData("offset", i)
		batch = append(batch, record)
	}

	fmt.Printf("Processing batch of %d records\n", len(batch))

	// Release all records after processing
	for _, record := range batch {
		record.Release()
	}

	fmt.Println("Batch processing complete")

	// Output:
	// Processing batch of 5 records
	// Batch processing complete
}

// ExampleGetMap demonstrates using the global map pool.
func ExampleGetMap() {
	// Get a map from the pool
	m := pool.GetMap()
	defer pool.PutMap(m)

	// Use the map
	m["_id"] = "66f2a19c"
	m["updatedAt"] = "2024-01-15T10:30:00Z"

	fmt.Printf("Map size: %d\n", len(m))

	// Output:
	// Map size: 2
}

// ExampleInternString shows field-name interning for decoded documents.
func ExampleInternString() {
	// Repeated field names across documents collapse to one instance
	a := pool.InternString("updatedAt")
	b := pool.InternString("updatedAt")

	fmt.Printf("Same value: %v\n", a == b)

	// Output:
	// Same value: true
}
