// cqlstore - document and media store on Cassandra
//
// Serve collections and media over HTTP, or read and write records
// directly from the command line.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
