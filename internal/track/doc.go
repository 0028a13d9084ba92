// Package track renders a recorded flight track as an annotated PNG.
//
// Positions are drawn top-down with x as latitude and y as longitude in
// degrees, the frame the simulated vehicle reports in. The line colour
// goes from blue at the lowest recorded altitude to red at the highest.
package track
