/*
Package log provides structured logging for Canopy built on zerolog.

A single global logger is initialized once at CLI startup via Init and
consumed through package-level helpers or the With* child-logger
constructors. Components attach their identity (component, deployment,
stage, provider) as structured fields so that a multi-deployment run
remains filterable in JSON output.

Console output (the default) is human-readable; --log-json switches to
newline-delimited JSON for machine consumption.
*/
package log
