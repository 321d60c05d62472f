package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"tagrelay/internal/capture"
	"tagrelay/internal/log"
	"tagrelay/internal/meta"
)

func main() {
	inPath := flag.String(
		"in",
		"",
		"path to the source capture",
	)
	outPath := flag.String(
		"out",
		"dns_query_with_header.pcap",
		"path the tagged capture is written to",
	)
	tz := flag.String(
		"tz",
		"Local",
		"time zone capture timestamps are rendered in, as an IANA name",
	)
	version := flag.Bool(
		"version",
		false,
		"print the compiled tagrelay version SHA",
	)
	verbosity := flag.String(
		"verbosity",
		"error",
		"desired logging verbosity: one of error, warn, info, debug",
	)
	flag.Parse()

	// Report the compiled version and exit
	if *version {
		fmt.Printf("tagrelay/%s\n", meta.VersionSHA)
		return
	}

	level, _ := log.ParseLevel(*verbosity)
	logger := log.NewConsoleLogger(level)

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		panic(err)
	}

	logger.Debug("main: reading source capture: path=%s", *inPath)
	in, err := os.Open(*inPath)
	if err != nil {
		panic(err)
	}

	queries, linkType, err := capture.ReadQueries(in)
	in.Close()
	if err != nil {
		panic(err)
	}

	fmt.Println("Total DNS Queries:", len(queries))

	tagged := (&capture.Tagger{Location: loc}).Tag(queries)

	pkts := make([]capture.Packet, 0, len(tagged))
	for _, pkt := range tagged {
		fmt.Println(pkt.Summary())
		pkts = append(pkts, pkt.Packet)
	}

	out, err := os.Create(*outPath)
	if err != nil {
		panic(err)
	}

	if err := capture.WritePackets(out, linkType, pkts); err != nil {
		out.Close()
		panic(err)
	}

	if err := out.Close(); err != nil {
		panic(err)
	}

	logger.Info("main: wrote tagged capture: path=%s packets=%d link_type=%s", *outPath, len(pkts), linkType)
}
