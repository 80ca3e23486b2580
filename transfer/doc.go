// Package transfer implements the per-connection workers of sharecore.
//
// A ServerWorker owns one accepted connection and answers a single request
// from the catalog snapshot that was current when the connection arrived. A
// ClientWorker dials a server and fetches its listing or downloads one file,
// resuming from whatever part of the destination file already exists.
//
// Workers report through a Sink with a fixed order per worker:
//
//	Started, Progress*, (Completed | Aborted | Failed)
//
// Byte positions in events are absolute positions in the file, so a resumed
// download that stops again reports the new size of the partial file.
//
// Abort is cooperative. Cancelling the context passed to Run stops the
// worker between chunks and closes its connection so that a blocked read or
// write returns. A peer closing the connection mid-stream is also an abort;
// the I/O error is kept in Event.Err.
//
// Example:
//
//	w, err := transfer.NewDownloadWorker("10.0.0.5:36330", file, "/tmp/notes.txt", transfer.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	w.Run(ctx, transfer.SinkFunc(func(e transfer.Event) {
//	    log.Printf("%s %d/%d", e.Kind, e.Bytes, e.Total)
//	}))
package transfer
