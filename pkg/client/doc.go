// Package client is the Go SDK for a logline server.
//
// It wraps the /api/v1 HTTP routes: appending atomics, paging through the
// ledger, point lookups, statistics, verification, export, and the trust
// registry.
//
//	c, err := client.New("http://localhost:8000", client.WithAPIKey(key))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	receipt, err := c.Append(ctx, a, client.AppendOptions{Sign: true})
//
// # Paging
//
// Scan returns one page at a time. Pass NextCursor back in to continue:
//
//	var cursor string
//	for {
//	    page, err := c.Scan(ctx, client.ScanOptions{Cursor: cursor, Limit: 500})
//	    if err != nil {
//	        return err
//	    }
//	    for _, rec := range page.Atomics {
//	        handle(rec)
//	    }
//	    if !page.HasMore {
//	        break
//	    }
//	    cursor = page.NextCursor
//	}
//
// # Errors
//
// Non-2xx answers come back as *APIError, which unwraps to the matching
// ledgererr type, so ledgererr.KindOf works on client errors the same way
// it does on local ones.
//
// # Federation
//
// SigningKeys satisfies the peer client the trust registry's federation
// syncer dials. It returns the keys a peer signs with, including rotated
// ones, so the peer's history keeps verifying after a rotation.
package client
