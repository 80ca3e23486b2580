// Package sharecore shares local directories over TCP and downloads files
// from other sharecore nodes, with resumable and abortable transfers.
//
// A [Node] plays both roles. As a server it publishes a catalog of the files
// below its shared directories and streams them to any client that asks. As
// a client it fetches listings and downloads files from other servers.
// Every accepted connection and every client request runs as an independent
// worker; the node reports their progress through callbacks.
//
// # Getting Started
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.ApplyEnvironment()
//
//	node, err := sharecore.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Shutdown(context.Background())
//
//	node.OnListReceived(func(id sharecore.WorkerID, snap *sharecore.Snapshot) {
//	    for _, f := range snap.Entries() {
//	        fmt.Println(f.RelativePath, f.Size)
//	    }
//	})
//	node.OnTransferAborted(func(id sharecore.WorkerID, bytes uint64) {
//	    fmt.Printf("stopped at %d bytes, request it again to resume\n", bytes)
//	})
//
//	if err := node.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	node.RequestList("192.168.1.20:36330")
//
// # Resuming
//
// An aborted download leaves its partial file and a small ".resume" sidecar
// next to the destination. Requesting the same file into the same
// destination again continues from the partial file's size. If the server's
// copy changed size in the meantime, the partial file is discarded and the
// download starts over.
//
// # Callbacks
//
// Callbacks run on a single event goroutine in the order events happen.
// They must not call back into the node synchronously.
package sharecore
