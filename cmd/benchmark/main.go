package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"plaindex/pkg/client"
	"plaindex/pkg/common"
)

func main() {
	httpAddr := flag.String("http", "http://localhost:8080", "HTTP API base URL")
	tcpAddr := flag.String("tcp", "localhost:9090", "TCP server address")
	index := flag.String("index", "demo", "index to query")
	nReq := flag.Int("n", 5000, "number of requests per run")
	seed := flag.Int64("seed", 1, "random key seed")
	flag.Parse()

	maxKey := indexMaxKey(*httpAddr, *index)
	keys := make([]common.KeyType, *nReq)
	r := rand.New(rand.NewSource(*seed))
	for i := range keys {
		keys[i] = common.KeyType(r.Int63n(int64(maxKey) + 1))
	}

	fmt.Printf("plaindex protocol benchmark (N=%d, index=%s)\n", *nReq, *index)
	fmt.Printf("  HTTP=%s  TCP=%s\n", *httpAddr, *tcpAddr)
	fmt.Println("---------------------------------------------------")

	fmt.Println(">> HTTP rank lookups (JSON over HTTP/1.1)...")
	httpDuration := runHTTPBenchmark(*httpAddr, *index, keys)
	fmt.Printf("   HTTP time: %v | QPS: %.0f\n\n", httpDuration, float64(*nReq)/httpDuration.Seconds())

	fmt.Println(">> TCP rank lookups (binary protocol)...")
	tcpDuration := runTCPBenchmark(*tcpAddr, *index, keys)
	fmt.Printf("   TCP  time: %v | QPS: %.0f\n", tcpDuration, float64(*nReq)/tcpDuration.Seconds())

	fmt.Println("---------------------------------------------------")
	fmt.Printf("TCP/HTTP throughput ratio: %.2fx\n", httpDuration.Seconds()/tcpDuration.Seconds())
}

// indexMaxKey asks the server for the largest breakpoint key so lookups
// hit the indexed domain.
func indexMaxKey(base, index string) common.KeyType {
	resp, err := http.Get(base + "/api/breakpoints?index=" + url.QueryEscape(index))
	if err != nil {
		log.Fatalf("HTTP req failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("breakpoints: %s: %s", resp.Status, body)
	}
	var out struct {
		Breakpoints []struct {
			Key common.KeyType `json:"key"`
		} `json:"breakpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("breakpoints: %v", err)
	}
	if len(out.Breakpoints) == 0 {
		log.Fatalf("index %s has no breakpoints", index)
	}
	return out.Breakpoints[len(out.Breakpoints)-1].Key
}

func runHTTPBenchmark(base, index string, keys []common.KeyType) time.Duration {
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 100,
		},
	}
	prefix := base + "/api/rank?index=" + url.QueryEscape(index) + "&key="

	start := time.Now()
	for _, k := range keys {
		resp, err := client.Get(prefix + strconv.FormatUint(uint64(k), 10))
		if err != nil {
			log.Fatalf("HTTP req failed: %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			log.Fatalf("HTTP rank %d: %s", k, resp.Status)
		}
	}
	return time.Since(start)
}

func runTCPBenchmark(addr, index string, keys []common.KeyType) time.Duration {
	cli, err := client.Dial(addr)
	if err != nil {
		log.Fatalf("TCP connect failed: %v", err)
	}
	defer cli.Close()

	start := time.Now()
	for _, k := range keys {
		if _, _, err := cli.RankOf(index, k); err != nil {
			log.Fatalf("TCP rank %d: %v", k, err)
		}
	}
	return time.Since(start)
}
