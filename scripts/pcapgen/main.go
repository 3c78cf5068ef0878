package main

import (
	"Go2NetIDS/pkg/pcap"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"time"
)

// pcapgen writes a capture mixing ordinary HTTP sessions with a SYN scan,
// for use with `ns-ids replay`.
func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	sessions := flag.Int("sessions", 100, "Number of HTTP sessions to generate")
	scanPorts := flag.Int("scan", 200, "Number of ports probed by the scanner (0 disables)")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	w, err := pcap.NewWriter(f)
	if err != nil {
		log.Fatalf("Failed to create pcap writer: %v", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	server := net.IPv4(192, 168, 1, 10)
	ts := time.Now()

	log.Printf("Generating %d sessions and a %d-port scan into %s...", *sessions, *scanPorts, *outputFile)

	for i := 0; i < *sessions; i++ {
		client := net.IPv4(192, 168, 1, byte(100+rng.Intn(50)))
		body := make([]byte, rng.Intn(1400)+50)
		rng.Read(body)
		err := w.WriteSession(pcap.Session{
			Client:     client,
			Server:     server,
			ClientPort: uint16(rng.Intn(65535-1024) + 1024),
			ServerPort: 80,
			Request:    []byte(fmt.Sprintf("GET /item/%d HTTP/1.1\r\nHost: shop\r\n\r\n", i)),
			Response:   append([]byte("HTTP/1.1 200 OK\r\n\r\n"), body...),
			Start:      ts,
		})
		if err != nil {
			log.Fatalf("Failed to write session: %v", err)
		}
		ts = ts.Add(time.Duration(rng.Intn(50)+10) * time.Millisecond)
	}

	scanner := net.IPv4(10, 66, 6, 6)
	for port := 1; port <= *scanPorts; port++ {
		if err := w.WriteProbe(ts, scanner, server, 61000, uint16(port)); err != nil {
			log.Fatalf("Failed to write probe: %v", err)
		}
		ts = ts.Add(200 * time.Microsecond)
	}

	log.Printf("Successfully generated capture %s.", *outputFile)
}
