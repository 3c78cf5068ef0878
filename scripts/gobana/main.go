package main

import (
	"Go2NetIDS/internal/storage"
	"fmt"
	"log"
	"os"
)

// gobana prints a verdict batch written by the gob writer.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <batch_dir>")
		os.Exit(1)
	}
	batchDir := os.Args[1]

	verdicts, err := storage.ReadGobBatch(batchDir)
	if err != nil {
		log.Fatalf("Failed to read batch: %v", err)
	}

	fmt.Printf("Decoded %d verdicts:\n", len(verdicts))
	for _, v := range verdicts {
		alert := ""
		if v.Alert {
			alert = "ALERT"
		}
		fmt.Printf("%6d  %s  %-45s %5.1f%%  %s\n",
			v.Seq, v.Timestamp.Format("15:04:05.000"), v.Source+" -> "+v.Destination, v.Confidence*100, alert)
	}
}
