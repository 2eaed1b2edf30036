// Command certgen writes a development CA plus server and device
// certificates for running the client against the reference server with mutual TLS.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/atinyakov/declutter/internal/certgen"
)

func main() {
	dir := flag.String("out", "certs", "output directory")
	hosts := flag.String("hosts", "localhost,127.0.0.1", "comma separated server host names and IPs")
	devices := flag.String("devices", "device", "comma separated device names")
	flag.Parse()

	if err := certgen.WriteDevBundle(*dir, split(*hosts), split(*devices)); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
	fmt.Printf("certificates written to %s\n", *dir)
}

func split(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
