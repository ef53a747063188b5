/*
Package densityserver serves sub-regions of crystallographic (x-ray) and electron
microscopy density maps to molecular viewers.

Maps are converted once into packed files: a small header followed by a pyramid of
downsampled copies of the map, each cut into cubic blocks so that any box can be read
with a handful of range reads.  Queries pick the finest sampling level that fits a
size budget, read the blocks they touch and return the region as CIF or BinaryCIF.

Packages

	density   coordinate spaces, unit cells, value types, logging and errors
	source    streaming slice readers for density maps (source/ccp4 for CCP4/MRC)
	format    the packed file header and block layout
	pack      pyramid building, block writing and bulk packing
	storage   random access to packed files on disk, in cloud buckets or in Swift
	encode    CIF and BinaryCIF result documents
	query     the query state machine
	server    the HTTP API

Commands

In the following documentation, the type of brackets designate
<required parameter> and [optional parameter].

	densityserver about
	densityserver serve <config.toml>
	densityserver [-blocksize=96] [-mode=xray|em] pack <output> <map> [<map> ...]
	densityserver [-workers=N] bulk <manifest.json>
	densityserver header <packed file>
	densityserver [-space=cartesian|fractional] [-encoding=cif|bcif] query <packed file> <a> <b>

Outputs and packed file references may be local paths or file://, gs://, s3:// or
swift:// URLs.
*/
package densityserver
