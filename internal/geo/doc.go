// Package geo holds the local planar+altitude frame used by the flight
// controller. Distances are Euclidean in the x/y plane; no geodesy.
package geo
