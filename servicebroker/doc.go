/*
Package servicebroker provides the broker facade: it registers services, runs
the init/final and job.start/job.end lifecycle around every dispatch, injects
the default context and identity, and hands commands off to named queues.

A Broker is concurrency-safe and contains no global state.
*/
package servicebroker
