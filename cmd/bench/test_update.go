package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestUpdate appends one tag to every record, each worker owning the keys
// congruent to its number.
func TestUpdate(c Config) {

	if c.Base == "" {
		_, stop := CreateServer(&c)
		defer stop()
	}

	collection := NewCollection()
	client := NewClient()

	fmt.Println("Preload records...")
	Preload(client, c.Base, collection, c.N, c.Workers)

	t0 := time.Now()
	Parallel(c.Workers, func(worker int) {
		for i := int64(worker); i < c.N; i += int64(c.Workers) {
			url := fmt.Sprintf("%s/v1/collections/%s/records/%d:update", c.Base, collection, i)
			body := fmt.Sprintf(`{"operation":"APPEND","field":"tags","newValues":["w%d"]}`, worker)
			resp, err := client.Post(url, "application/json", strings.NewReader(body))
			if err != nil {
				fmt.Println("ERROR: do request:", err.Error())
				continue
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Println("ERROR: bad status:", resp.Status)
			}
		}
	})

	Report("updated", c.N, time.Since(t0))
}
