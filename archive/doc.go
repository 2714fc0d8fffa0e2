// Package archive implements the parcel archive format.
//
// An archive is a tar container with two required members:
//   - archive.gz: the concatenation of one gzip member per file, back to back
//   - meta.json: the manifest, the package descriptor, and the blob checksum
//
// Every manifest entry records the blob offset just after its gzip member, so
// the compressed span of entry k is [entry(k-1).noffset, entry(k).noffset).
// This lets a [Reader] extract any single file by opening a fresh gzip stream
// at the start of its span, without decompressing earlier files.
//
// Every file carries an MD5 checksum of its uncompressed content which is
// verified on extraction. MD5 is part of the wire format and is not
// configurable.
//
// Additional container members are "loose" members: they are not part of the
// blob and are copied verbatim on [Reader.ExtractAll]. meta.json itself is a
// loose member, which is how extracted packages keep their metadata.
//
// The same layout exploded into a directory (as kept in the download cache) is
// also accepted by [OpenReader].
package archive
