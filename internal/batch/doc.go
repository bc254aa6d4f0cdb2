// Package batch reads incoming record batches and writes the merged output.
//
// An incoming batch is an ordered list of raw records as produced by a
// source (the origin export or the processing client). Files may be JSON
// or YAML; JSON numbers are decoded losslessly so integer properties keep
// their exact value through the digest.
//
// The merged output is the list of objects a pass hands to the next stage,
// one record per object in first-appearance order.
package batch
