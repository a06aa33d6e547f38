package main

import (
	"fmt"
	"log"
	"time"

	"plaindex/pkg/common"
	"plaindex/pkg/core/pla"
	"plaindex/pkg/datagen"
	"plaindex/pkg/dataset"
)

func main() {
	keys, err := datagen.Generate(datagen.DefaultCount, datagen.DefaultMaxKey, 42)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	fmt.Printf("Dataset: %v\n", keys)

	ds, err := dataset.New(keys)
	if err != nil {
		log.Fatalf("dataset: %v", err)
	}
	defer ds.Close()

	start := time.Now()
	ix, err := pla.Build(ds, 2)
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	fmt.Printf("Built %d segments over %d keys in %v\n", ix.Segments(), ix.Len(), time.Since(start))
	for _, bp := range ix.Breakpoints() {
		fmt.Printf("  key %-4d rank %-4d slope %.4f\n", bp.Key, bp.Rank, bp.Slope)
	}

	for _, key := range []common.KeyType{keys[0], keys[len(keys)/2], datagen.DefaultMaxKey + 1} {
		pred, seg := ix.Locate(key)
		rank, found, err := ix.RankOf(key)
		if err != nil {
			log.Fatalf("rank: %v", err)
		}
		if found {
			fmt.Printf("Key %d: predicted %d (segment %d), rank %d\n", key, pred, seg, rank)
		} else {
			fmt.Printf("Key %d: predicted %d (segment %d), not in dataset\n", key, pred, seg)
		}
	}
}
