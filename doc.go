// SPDX-License-Identifier: GPL-3.0-or-later

// Package intercept records HTTP and HTTPS responses to fixture files and
// replays them, so that tests hit the network only on their first run.
//
// # Sessions
//
// A [*Session] fetches a single response. [*Session.Open] asks the
// [*Registry] which fixture to use. When the fixture file exists, the
// session replays it without touching the network. Otherwise the session
// resolves the host, connects, sends a request built by [BuildRequest],
// and [*Session.Close] saves every byte received to the fixture file:
//
//	<saveDir>/<name>.rsd
//
// Fixtures contain the raw response (status line, headers, blank line and
// body) with no added metadata. After Open, [*Session.HeaderLines]
// returns the status line and the header lines, found by [*HeaderScanner].
//
// # Persist Mode
//
// [*Registry.PersistSaveFile] keeps a base name across sessions: each
// Open advances a counter and the sessions use name-1, name-2, and so on,
// until [*Registry.ClearPersistSaveFile]. Failed sessions advance the
// counter too, so numbering does not depend on the network.
//
// # Pipelines
//
// Live sessions compose [Func] stages using [Compose2] through [Compose6]:
//
//   - [ResolveFunc]: maps the target to an address, optionally querying
//     a DNS server over UDP, TCP or TLS through [*DNSConn]
//   - [ConnectFunc]: dials the address within [Config].ConnectTimeout
//   - [ObserveConnFunc]: logs I/O operations
//   - [CancelWatchFunc]: closes the connection when the context is done
//   - [TLSHandshakeFunc]: performs the TLS handshake for https
//   - [BackendFunc]: wraps the connection into a [Backend]
//
// Errors of the resolve, connect and handshake stages become
// [*ConnectionError] values via [MapError].
//
// # HTTP Clients
//
// [*Transport] is an [net/http.RoundTripper] using a [*Session] for each
// request. Tests bind fixture names to their lifetime using [UseFixture]
// and [UsePersistentFixture].
//
// # Errors
//
// Missing configuration errors wrap [ErrConfiguration]. Live failures are
// [*ConnectionError] values matching [ErrConnection]. No fixture is ever
// saved for a failed Open.
//
// # Observability
//
// All operations accept an [SLogger] and emit structured *Start/*Done
// events tagged with the session span ID (see [NewSpanID]).
package intercept
