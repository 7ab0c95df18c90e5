// Package pkg provides the libraries behind cudaredist, which turns NVIDIA
// redistributable manifests into feature manifests.
//
// # Overview
//
// A redistributable manifest lists the packages of one release of a
// redist (cuda, cudnn, tensorrt and friends) per platform. cudaredist
// fetches every archive, unpacks it and records what each package offers:
// its outputs, the CUDA architectures of its device code, the shared
// libraries it provides and needs, and finally which sibling packages
// satisfy those needs.
//
// The pkg directory is organized by stage:
//
//  1. [version], [redist] - Value types for versions, platforms and names
//  2. [manifest] - Reading redistributable manifests from disk or the web
//  3. [integrations], [httputil], [cache] - HTTP clients, retry and caching
//  4. [nixstore] - Fetching and unpacking archives via the Nix store
//  5. [feature] - Detectors and the feature manifest format
//  6. [resolver] - The soname to provider table
//  7. [task], [pipeline] - Concurrent orchestration of the above
//  8. [depgraph], [server] - Rendering and serving the results
//
// # Architecture
//
// The typical data flow through cudaredist:
//
//	redistrib_<version>.json
//	         ↓
//	    [manifest] package (parse, validate, filter)
//	         ↓
//	    [nixstore] package (prefetch and unpack each archive)
//	         ↓
//	    [feature] package (detect outputs, cuda arch, libraries)
//	         ↓
//	    [resolver] package (map needed sonames to providers)
//	         ↓
//	    feature_manifests/<redist>/feature_<version>.json
//
// [version]: github.com/matzehuels/cudaredist/pkg/version
// [redist]: github.com/matzehuels/cudaredist/pkg/redist
// [manifest]: github.com/matzehuels/cudaredist/pkg/manifest
// [integrations]: github.com/matzehuels/cudaredist/pkg/integrations
// [httputil]: github.com/matzehuels/cudaredist/pkg/httputil
// [cache]: github.com/matzehuels/cudaredist/pkg/cache
// [nixstore]: github.com/matzehuels/cudaredist/pkg/nixstore
// [feature]: github.com/matzehuels/cudaredist/pkg/feature
// [resolver]: github.com/matzehuels/cudaredist/pkg/resolver
// [task]: github.com/matzehuels/cudaredist/pkg/task
// [pipeline]: github.com/matzehuels/cudaredist/pkg/pipeline
// [depgraph]: github.com/matzehuels/cudaredist/pkg/depgraph
// [server]: github.com/matzehuels/cudaredist/pkg/server
package pkg
