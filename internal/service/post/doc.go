// Package post runs the after-success steps of a packaging run, such as
// copying the staged release into the previous versions root.
package post
