// poolcheck issues two requests to the same URL, printing each status code,
// then prints the dispatcher's per-host in-flight counts. It does not report
// whether the second request reused a pooled connection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nexthttp/nexthttp"
)

func main() {
	url := flag.String("url", "https://example.com/", "URL to request twice")
	flag.Parse()

	client := nexthttp.NewClient()
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Request 1...")
	resp1, err := client.Get(ctx, *url)
	if err != nil {
		log.Fatalf("request 1: %v", err)
	}
	fmt.Printf("  status: %d\n", resp1.StatusCode)
	resp1.Close()

	time.Sleep(100 * time.Millisecond)

	fmt.Println("Request 2...")
	resp2, err := client.Get(ctx, *url)
	if err != nil {
		log.Fatalf("request 2: %v", err)
	}
	fmt.Printf("  status: %d\n", resp2.StatusCode)
	resp2.Close()

	stats := client.DispatcherStats()
	fmt.Printf("in-flight per host: %v\n", stats.RunningPerHost)
}
