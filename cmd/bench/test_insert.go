package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

func TestInsert(c Config) {

	if c.Base == "" {
		_, stop := CreateServer(&c)
		defer stop()
	}

	collection := NewCollection()
	client := NewClient()

	items := c.N

	go func() {
		for {
			fmt.Println("items:", atomic.LoadInt64(&items))
			time.Sleep(1 * time.Second)
		}
	}()

	t0 := time.Now()
	Parallel(c.Workers, func(int) {

		r, w := io.Pipe()

		wb := bufio.NewWriterSize(w, 1*1024*1024)

		go func() {
			for {
				n := atomic.AddInt64(&items, -1)
				if n < 0 {
					break
				}
				fmt.Fprintf(wb, "{\"key\":\"%d\",\"values\":{\"n\":\"%d\"}}\n", n, n)
			}
			wb.Flush()
			w.Close()
		}()

		req, err := http.NewRequest("POST", c.Base+"/v1/collections/"+collection+"/records", r)
		if err != nil {
			fmt.Println("ERROR: new request:", err.Error())
			os.Exit(3)
		}

		resp, err := client.Do(req)
		if err != nil {
			fmt.Println("ERROR: do request:", err.Error())
			os.Exit(4)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	})

	Report("sent", c.N, time.Since(t0))
}
