// Package recipe defines the declarative package recipe and its YAML format.
//
// A recipe names one upstream source archive, pins it to a SHA-256 digest,
// and lists the steps that build it, the files that get installed, and the
// smoke tests that check the result. Recipes are data: the executor in the
// build package never special-cases one.
//
// Install steps are typed descriptors. A run step holds a program and its
// argument vector; no shell is ever involved, and placeholders such as
// {{prefix}} are substituted per argument. An install directive copies one
// build output into a directory of the destination prefix.
//
// Example recipe:
//
//	name: vframetest
//	desc: Professional media frame I/O benchmark and testing tool
//	homepage: https://github.com/ssotoa70/vframetest
//	url: https://github.com/ssotoa70/vframetest/archive/refs/tags/v3025.10.2.tar.gz
//	sha256: ce5a35cc0cec5fdc3de32615fd3aa2769ca11c7aa9ff534d33a2205fbe573f94
//	license: GPL-2.0-or-later
//	depends_on:
//	  make: build
//	install:
//	  - run: [make, clean]
//	  - run: [make]
//	  - bin: build/vframetest
//	test:
//	  - run: ["{{bin}}/vframetest", --version]
//	    expect: vframetest 3025.10.2
//
// Example usage:
//
//	r, err := recipe.Load("vframetest.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(r.Name, r.Version)
package recipe
