// Indexretain maintains the backup index of a set of clients.
//
// It records completed backup jobs, prunes jobs that have fallen out of
// retention at each checkpoint, follows storage aging notices, and answers
// browse and restore requests.
//
// Usage:
//
//	# Run the checkpoint scheduler, aging spool and HTTP endpoints
//	indexretain run --config /etc/indexretain/config.yaml
//
//	# Record a completed job
//	indexretain jobs append --index idx --job-id 42 --type full --subclient sc1 \
//	    --backupset bs1 --start 2026-10-01T01:00:00Z --end 2026-10-01T02:00:00Z
//
//	# Run one checkpoint now
//	indexretain checkpoint --index idx
//
//	# Browse a subclient, including aged data when the index allows it
//	indexretain browse --index idx --scope sc1
package main

import "os"

func main() {
	os.Exit(Execute())
}
