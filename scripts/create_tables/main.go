package main

import (
	"log"
	"os"
	"strings"

	"github.com/FlexpointLLC/linquo-sub000/pkg/store"
)

func main() {
	hostsStr := os.Getenv("SCYLLA_HOSTS")
	if hostsStr == "" {
		hostsStr = "localhost:9042"
	}
	hosts := strings.Split(hostsStr, ",")

	keyspace := os.Getenv("SCYLLA_KEYSPACE")
	if keyspace == "" {
		keyspace = "linquo"
	}

	if err := store.EnsureSchema(hosts, keyspace); err != nil {
		log.Fatal(err)
	}

	log.Println("Keyspace and tables created successfully")
}
