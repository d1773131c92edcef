package journal

import (
	"bufio"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-json-experiment/json"
)

const maxLine = 16 * 1024 * 1024

type loadedCommand struct {
	seq int
	cmd *Command
	err error
}

// loadCommands decodes log lines with several workers and delivers them in
// file order.
func loadCommands(r io.Reader, concurrency int) (<-chan *Command, <-chan error) {
	out := make(chan *Command, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errChan)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLine)

		type line struct {
			seq  int
			data []byte
		}
		lines := make(chan line, 100)
		results := make(chan loadedCommand, 100)

		wg := sync.WaitGroup{}
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for item := range lines {
					cmd := &Command{}
					err := json.Unmarshal(item.data, cmd)
					if err != nil {
						err = errors.Wrapf(err, "line %d", item.seq+1)
					}
					results <- loadedCommand{seq: item.seq, cmd: cmd, err: err}
				}
			}()
		}

		go func() {
			seq := 0
			for scanner.Scan() {
				if len(scanner.Bytes()) == 0 {
					continue
				}
				data := make([]byte, len(scanner.Bytes()))
				copy(data, scanner.Bytes())
				lines <- line{seq: seq, data: data}
				seq++
			}
			close(lines)
			if err := scanner.Err(); err != nil {
				results <- loadedCommand{seq: -1, err: err}
			}
			wg.Wait()
			close(results)
		}()

		pending := map[int]*Command{}
		next := 0
		failed := false
		for res := range results {
			if failed {
				continue // drain so the workers can finish
			}
			if res.err != nil {
				errChan <- res.err
				failed = true
				continue
			}
			pending[res.seq] = res.cmd
			for {
				cmd, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				out <- cmd
				next++
			}
		}
	}()

	return out, errChan
}
