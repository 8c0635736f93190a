// Package chronicle provides a native Go client for the Chronicle security
// analytics API (v1alpha).
//
// A Client is scoped to one instance
// (projects/{project}/locations/{region}/instances/{customer}) and exposes
// one field per endpoint family: Search, Rules, Alerts, Entities, IoCs,
// DataTables, ReferenceLists, Exports and Logs. Every call takes a
// context; cancelling it stops the request and any polling in progress.
//
// # Quick Start
//
//	client, err := chronicle.NewClient(
//	    chronicle.WithProject("my-project", "customer-uuid"),
//	    chronicle.WithRegion("us"),
//	    chronicle.WithToken(token),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := client.Search.UDM(ctx, `metadata.event_type = "NETWORK_CONNECTION"`,
//	    chronicle.LastHours(24), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !res.Complete {
//	    log.Printf("search still running, %d events so far", len(res.Events))
//	}
//
// # Polling
//
// Searches, statistics, alert views and retrohunts are asynchronous on the
// server. The client re-checks them until a terminal stage or until the
// PollConfig budget (attempts or wall-clock time, whichever comes first)
// is spent. Transient failures such as 429 or "not ready" back off
// exponentially and count against the same budget.
//
//	res, err := client.Search.Stats(ctx, query, tr, &chronicle.StatsOptions{
//	    Poll: &chronicle.PollConfig{MaxAttempts: 10, Timeout: 2 * time.Minute},
//	})
//
// # Errors
//
// Non-2xx responses become *AuthenticationError, *NotFoundError,
// *ValidationError, *RateLimitError or *ServerError, each of which also
// matches *APIError:
//
//	rule, err := client.Rules.Get(ctx, "ru_missing")
//	if err != nil {
//	    var notFound *chronicle.NotFoundError
//	    if errors.As(err, &notFound) {
//	        fmt.Println("no such rule:", notFound.ResourceID)
//	    }
//	}
//
// Client-side validation failures match chronicle.ErrInvalidInput and are
// returned before any request is sent.
//
// # Pagination
//
// List endpoints return iter.Seq2 sequences that follow nextPageToken
// lazily. Stopping the loop early stops fetching:
//
//	for table, err := range client.DataTables.All(ctx, "createTime asc") {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(table.Name)
//	}
//
// CollectAll gathers a whole sequence and returns no partial slice on error:
//
//	rules, err := chronicle.CollectAll(client.Rules.All(ctx))
package chronicle
