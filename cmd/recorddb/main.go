package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/fulldump/goconfig"

	"github.com/fulldump/recorddb/bootstrap"
	"github.com/fulldump/recorddb/configuration"
)

var VERSION = "dev"

var banner = `
                               _     _ _     
  _ __ ___  ___ ___  _ __ __| | __| | |__  
 | '__/ _ \/ __/ _ \| '__/ _' |/ _' | '_ \ 
 | | |  __/ (_| (_) | | | (_| | (_| | |_) |
 |_|  \___|\___\___/|_|  \__,_|\__,_|_.__/ 
                       version ` + VERSION + `
`

func main() {

	c := configuration.Default()
	goconfig.Read(&c)

	if c.Version {
		fmt.Println("Version:", VERSION)
		return
	}

	if c.ShowBanner {
		fmt.Println(banner)
	}

	if c.ShowConfig {
		e := json.NewEncoder(os.Stdout)
		e.SetIndent("", "    ")
		e.Encode(c)
	}

	start, _, err := bootstrap.Bootstrap(&c, VERSION)
	if err != nil {
		log.Println("ERROR:", err.Error())
		os.Exit(-1)
	}
	start()
}
