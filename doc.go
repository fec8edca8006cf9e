// Package asar reads, extracts and creates ASAR archives.
//
// An ASAR archive is a JSON index describing a virtual file tree, framed in
// a small binary header, followed by the concatenated content of every file.
// Electron applications ship their sources this way as app.asar.
//
// # Reading
//
// Open an archive from disk and read a file:
//
//	a, err := asar.OpenFile("app.asar")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	data, err := a.ReadFile("package.json")
//
// [Archive] implements [io/fs.FS], [io/fs.StatFS], [io/fs.ReadFileFS],
// [io/fs.ReadDirFS] and [io/fs.ReadLinkFS], so it works with
// [io/fs.WalkDir], [io/fs.Glob] and http.FS.
//
// # Extracting
//
// Extract recreates the tree under a destination directory:
//
//	report, err := a.Extract(ctx, "out", nil,
//	    asar.ExtractWithVerifyIntegrity(true),
//	    asar.ExtractWithWorkers(4),
//	)
//
// The archive is fully validated when it is opened: entries whose ranges
// fall outside the archive, whose names contain path separators or relative
// segments, or whose link targets escape the archive root are rejected with
// a [FormatError] before anything is written. Output goes through a [Sink];
// [FileSink] writes to the local filesystem, confined to the destination
// with [os.Root].
//
// # Creating
//
// Pack and PackFile build an archive from a directory, recording SHA256
// integrity for every file:
//
//	err := asar.PackFile(ctx, "./app", "app.asar",
//	    asar.PackWithUnpack(pathrules.Rule{Action: pathrules.ActionInclude, Pattern: "*.node"}),
//	)
//
// Files matched by the unpack rules are stored next to the archive in
// app.asar.unpacked and only described in the index.
package asar
