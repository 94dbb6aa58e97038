package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/INLOpen/lender/api/lender"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [flags] <command> [command flags]

commands:
  MaterializeDataset
  LocateBlocks -f PATH
  ComputePartitionAverage -c COUNTY_CODE

flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func dialOptions(tlsEnabled, insecureSkipVerify bool, caFile string) []grpc.DialOption {
	if !tlsEnabled {
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	tlsConfig := &tls.Config{ServerName: "localhost"}
	if insecureSkipVerify {
		log.Println("--- WARNING: Connecting with TLS but skipping server certificate verification (INSECURE) ---")
		tlsConfig.InsecureSkipVerify = true
	} else {
		cert, err := os.ReadFile(caFile)
		if err != nil {
			log.Fatalf("Failed to read CA certificate file: %v", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(cert) {
			log.Fatalf("Failed to append CA certificate to pool")
		}
		tlsConfig.RootCAs = certPool
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig))}
}

func main() {
	address := flag.String("addr", "localhost:5000", "Address of the lender server")
	timeout := flag.Duration("timeout", 10*time.Minute, "Deadline for the call")
	tlsEnabled := flag.Bool("tls", false, "Enable TLS for the connection")
	caFile := flag.String("cacert", "certs/server.crt", "The CA certificate file to trust")
	insecureSkipVerify := flag.Bool("insecure-tls", false, "Enable TLS but skip server certificate verification (INSECURE, for development only)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	command, args := flag.Arg(0), flag.Args()[1:]

	conn, err := grpc.Dial(*address, dialOptions(*tlsEnabled, *insecureSkipVerify, *caFile)...)
	if err != nil {
		log.Fatalf("Did not connect: %v", err)
	}
	defer conn.Close()

	client := lender.NewLenderClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch command {
	case "MaterializeDataset":
		resp, err := client.MaterializeDataset(ctx, &lender.MaterializeRequest{})
		if err != nil {
			log.Fatalf("MaterializeDataset failed: %v", err)
		}
		fmt.Println(resp.Status)

	case "LocateBlocks":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		path := fs.String("f", "", "Absolute path of the file in HDFS")
		fs.Parse(args)

		resp, err := client.LocateBlocks(ctx, &lender.LocateBlocksRequest{Path: *path})
		if err != nil {
			log.Fatalf("LocateBlocks failed: %v", err)
		}
		if resp.Error != "" {
			fmt.Println("ERROR:", resp.Error)
			os.Exit(1)
		}
		hosts := make([]string, 0, len(resp.BlockEntries))
		for host := range resp.BlockEntries {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)
		for _, host := range hosts {
			fmt.Printf("%s\t%d\n", host, resp.BlockEntries[host])
		}

	case "ComputePartitionAverage":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		county := fs.Int64("c", 0, "county_code of the partition")
		fs.Parse(args)

		resp, err := client.ComputePartitionAverage(ctx, &lender.PartitionAverageRequest{PartitionKey: *county})
		if err != nil {
			log.Fatalf("ComputePartitionAverage failed: %v", err)
		}
		if resp.Error != "" {
			fmt.Println("ERROR:", resp.Error)
			os.Exit(1)
		}
		fmt.Printf("average=%d source=%s\n", resp.Average, resp.Source)

	default:
		usage()
		os.Exit(2)
	}
}
