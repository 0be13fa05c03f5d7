// Package loader turns raw file bytes into an [api.Document].
//
// A [Registry] maps file extensions and MIME types to [Format] parsers. It is
// built once from a fixed list of formats and is read concurrently without
// locking. Resolution tries the filename extension first, then a declared
// content type, then content sniffing. Unknown types fail with
// api.ErrUnsupportedFormat and parse failures with api.ErrLoadError; a
// Document is never returned partially.
package loader
