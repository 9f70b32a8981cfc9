// Package objectstore exports collection configuration to S3-compatible
// object storage through the MinIO client.
//
//	client, err := objectstore.NewClient(settings.Storage, settings.HTTP.Timeout)
//	sink := objectstore.NewSink(client, "fusion-backups", objectstore.WithPrefix("nightly"))
//	if err := sink.EnsureBucket(ctx); err != nil { ... }
//	decl, err := fusionClient.Export(ctx, names, sink)
package objectstore
