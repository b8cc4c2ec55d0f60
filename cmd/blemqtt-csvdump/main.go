package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ldotlopez/blemqtt/internal/csvdump"
)

func main() {
	var source, position, input, output string
	flag.StringVar(&source, "source", "", "value for the source column (required)")
	flag.StringVar(&source, "s", "", "shorthand for -source")
	flag.StringVar(&position, "position", "", "value for the position column (required)")
	flag.StringVar(&position, "p", "", "shorthand for -position")
	flag.StringVar(&input, "f", "", "read records from this file instead of stdin")
	flag.StringVar(&output, "o", "", "write CSV to this file instead of stdout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s -s SOURCE -p POSITION [-f FILE] [-o FILE]\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), "\nUse with something like: mosquitto_sub -F %j -h mqtt -t 'blemqtt/#'")
	}
	flag.Parse()

	if source == "" || position == "" {
		flag.Usage()
		os.Exit(2)
	}

	var in io.Reader = os.Stdin
	if input != "" {
		f, err := os.Open(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "blemqtt-csvdump: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	var out io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "blemqtt-csvdump: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)

	_, err := csvdump.Dump(in, w, csvdump.Options{Source: source, Position: position})
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "blemqtt-csvdump: %v\n", err)
		os.Exit(1)
	}
}
