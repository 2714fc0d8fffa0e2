// Package parcel manages versioned data packages on the local machine.
//
// Packages are built from a recipe into a single archive file, published to
// a repository, and installed into a pool below a data path. A local cache
// mirrors the repository listing so that version constraints are resolved
// without extra round trips.
//
// # Quick Start
//
// Install the newest compatible version of a package:
//
//	c, err := parcel.New(parcel.Config{
//	    AppName:       "tagger",
//	    AppVersion:    "1.2.0",
//	    DataPath:      "/var/lib/tagger",
//	    RepositoryURL: "https://packages.example.com",
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	pkg, err := c.Install(ctx, "en_core >=1.0,<2.0")
//
// Open an installed file:
//
//	pkg, err := c.Package("en_core")
//	f, err := pkg.Open("vocab", "strings.json")
//
// # Layout
//
// Installed packages live in "<data path>/<name>-<version>", cache entries
// in "<data path>/__cache__/<name>-<version>". Installs and removals go
// through a ".tmp" sibling directory so an interrupted run never leaves a
// partial package under its real name.
package parcel
