package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulldump/recorddb/database"
)

func TestRemove(c Config) {

	createServer := c.Base == ""

	var stop func()
	var dataDir string
	if createServer {
		dataDir, stop = CreateServer(&c)
	}

	collection := NewCollection()
	client := NewClient()

	fmt.Println("Preload records...")
	Preload(client, c.Base, collection, c.N, c.Workers)

	t0 := time.Now()
	Parallel(c.Workers, func(worker int) {
		for i := int64(worker); i < c.N; i += int64(c.Workers) {
			url := fmt.Sprintf("%s/v1/collections/%s/records/%d", c.Base, collection, i)
			req, err := http.NewRequest(http.MethodDelete, url, nil)
			if err != nil {
				fmt.Println("ERROR: new request:", err.Error())
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				fmt.Println("ERROR: do request:", err.Error())
				continue
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent {
				fmt.Println("ERROR: bad status:", resp.Status)
			}
		}
	})
	Report("removed", c.N, time.Since(t0))

	if !createServer {
		return
	}

	stop() // Stop the server

	// replay cost of a log holding inserts and removals
	t1 := time.Now()
	db := database.NewDatabase(&database.Config{Dir: dataDir, Backend: c.Backend})
	if err := db.Load(); err != nil {
		fmt.Println("ERROR: reopen:", err.Error())
		return
	}
	Report("reopened", 2*c.N, time.Since(t1))
	db.Stop()
}
