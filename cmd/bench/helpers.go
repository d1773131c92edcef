package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fulldump/recorddb/bootstrap"
	"github.com/fulldump/recorddb/configuration"
)

type JSON = map[string]any

func Parallel(workers int, f func(worker int)) {
	wg := &sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(i)
		}()
	}
	wg.Wait()
}

func TempDir() (string, func()) {
	dir, err := os.MkdirTemp("", "recorddb_bench_*")
	if err != nil {
		panic("Could not create temp directory: " + err.Error())
	}

	cleanup := func() {
		os.RemoveAll(dir)
	}

	return dir, cleanup
}

// NewCollection returns a fresh collection name, collections are created on
// first insert.
func NewCollection() string {
	return "bench-" + uuid.NewString()
}

func NewClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     1024,
			MaxIdleConnsPerHost: 1024,
			MaxIdleConns:        1024,
		},
		Timeout: time.Minute,
	}
}

// CreateServer starts an embedded server when no base URL is configured.
func CreateServer(c *Config) (dataDir string, stop func()) {
	dir, cleanup := TempDir()
	cleanups = append(cleanups, cleanup)

	conf := configuration.Default()
	conf.Dir = dir
	conf.Backend = c.Backend
	conf.ShowBanner = false
	c.Base = "http://" + conf.HttpAddr

	start, stop, err := bootstrap.Bootstrap(&conf, "bench")
	if err != nil {
		fmt.Println("ERROR: bootstrap:", err.Error())
		os.Exit(2)
	}
	go start()
	WaitOperating(c.Base)

	return dir, stop
}

func WaitOperating(base string) {
	for {
		resp, err := http.Get(base + "/release")
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Preload inserts keys 0..n-1 in one streamed request.
func Preload(client *http.Client, base, collection string, n int64, workers int) {
	r, w := io.Pipe()

	go func() {
		wb := bufio.NewWriterSize(w, 1*1024*1024)
		for i := int64(0); i < n; i++ {
			fmt.Fprintf(wb, "{\"key\":\"%d\",\"values\":{\"worker\":%d,\"tags\":[]}}\n", i, i%int64(workers))
		}
		wb.Flush()
		w.Close()
	}()

	resp, err := client.Post(base+"/v1/collections/"+collection+"/records", "application/json", r)
	if err != nil {
		fmt.Println("ERROR: do request:", err.Error())
		os.Exit(4)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func Report(action string, n int64, took time.Duration) {
	fmt.Println(action+":", n)
	fmt.Println("took:", took)
	fmt.Printf("Throughput: %.2f rows/sec\n", float64(n)/took.Seconds())
}
