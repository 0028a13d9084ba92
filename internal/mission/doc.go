// Package mission builds the ordered item lists handed to a vehicle's
// saveMission command and converts them to and from the actor wire form.
package mission
