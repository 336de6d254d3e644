/*
Package objectstore implements cargohold's crate blob storage.

Backend abstracts away where .crate tarballs physically live behind a
content-addressed Put/Get/Delete/Exists interface keyed by crate name and
version. Two backends satisfy it:

  - fsBackend: a plain filesystem tree rooted at a configured directory,
    the default for a single-node deployment.
  - s3Backend: an S3-compatible bucket via github.com/aws/aws-sdk-go,
    for deployments that want object storage decoupled from local disk.

Facade wraps a Backend with an in-process github.com/hashicorp/golang-lru/v2
cache of recently downloaded blobs, so a burst of downloads for a popular
version doesn't repeatedly round-trip to S3 or re-read from disk.
*/
package objectstore
