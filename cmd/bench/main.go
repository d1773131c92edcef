package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/fulldump/goconfig"
)

type Config struct {
	Test    string `usage:"name of the test: ALL | INSERT | UPDATE | REMOVE"`
	Base    string `usage:"base URL, empty starts an embedded server"`
	Backend string `usage:"backend of the embedded server"`
	N       int64  `usage:"number of records"`
	Workers int    `usage:"number of workers"`
}

var cleanups []func()

func main() {

	defer func() {
		fmt.Println("Cleaning up...")
		for _, cleanup := range cleanups {
			cleanup()
		}
	}()

	c := Config{
		Test:    "insert",
		Base:    "",
		Backend: "journal",
		N:       100_000,
		Workers: 16,
	}
	goconfig.Read(&c)

	switch strings.ToUpper(c.Test) {
	case "ALL":
		TestInsert(c)
		TestUpdate(c)
		TestRemove(c)
	case "INSERT":
		TestInsert(c)
	case "UPDATE":
		TestUpdate(c)
	case "REMOVE":
		TestRemove(c)
	default:
		log.Fatalf("Unknown test %s", c.Test)
	}

}
