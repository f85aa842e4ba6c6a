// Package telemetry wires OpenTelemetry exporters and meters for streamguard.
//
// It centralises trace provider setup and offers helpers that attach analysis
// verdicts, masked findings and advisory policy decisions to spans so operators
// can correlate DLP outcomes with the requests that produced them.
package telemetry
