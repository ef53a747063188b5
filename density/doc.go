/*
Package density holds types and functions shared by the packer, the query engine and
the server: logging, the error taxonomy, scalar value types and the coordinate algebra
that relates Cartesian, fractional, grid and block positions within a unit cell.
*/
package density
