// Package provider defines the interface for chat completion backends used
// to generate grounded answers. Adapters handle their own wire protocol and
// expose quelle's types (Request, Response, Event), keeping backend details
// out of the pipeline.
package provider
