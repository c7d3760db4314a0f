package manifest

// Wire-format structs mirror the CDN's JSON shapes exactly (field names
// and nesting); parsing into the typed Manifest/Depot/DepotItem model
// happens in parse.go immediately after unmarshalling, per spec §9
// ("parse into typed schemas at the network boundary").

type buildsResponseWire struct {
	Items []buildWire `json:"items"`
}

type buildWire struct {
	BuildID       string `json:"build_id"`
	LegacyBuildID string `json:"legacy_build_id"`
	Generation    int    `json:"generation"`
	DatePublished string `json:"date_published"`
	Link          string `json:"link"`
	Platform      string `json:"platform"`
	Tags          []string `json:"tags"`
}

type v1ManifestWire struct {
	Files []v1FileWire  `json:"files"`
	Depot v1DepotWire   `json:"depot"`
}

type v1DepotWire struct {
	Size int64  `json:"size"`
	MD5  string `json:"md5"`
}

type v1FileWire struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Offset int64  `json:"offset"`
	Hash   string `json:"hash"`
}

type v2RepositoryWire struct {
	BaseProductID    string        `json:"baseProductId"`
	BuildID          string        `json:"buildId"`
	Depots           []v2DepotWire `json:"depots"`
	InstallDirectory string        `json:"installDirectory"`
	Dependencies     []string      `json:"dependencies"`
}

type v2DepotWire struct {
	ProductID           string              `json:"productId"`
	Manifest            string              `json:"manifest"`
	Languages           []string            `json:"languages"`
	Size                int64               `json:"size"`
	CompressedSize      int64               `json:"compressedSize"`
	Bitness             []int               `json:"bitness"`
	SmallFilesContainer *v2SmallFilesWire   `json:"smallFilesContainer"`
}

type v2SmallFilesWire struct {
	Path                  string        `json:"path"`
	MD5                   string        `json:"md5"`
	TotalSizeUncompressed int64         `json:"totalSizeUncompressed"`
	Chunks                []v2ChunkWire `json:"chunks"`
}

type v2DepotManifestWire struct {
	SmallFilesContainer *v2SmallFilesWire `json:"smallFilesContainer"`
	Items               []v2ItemWire      `json:"items"`
}

type v2ItemWire struct {
	Path                  string        `json:"path"`
	MD5                   string        `json:"md5"`
	TotalSizeUncompressed int64         `json:"totalSizeUncompressed"`
	Chunks                []v2ChunkWire `json:"chunks"`
	SFCRef                *v2SFCRefWire `json:"sfcRef"`
}

type v2SFCRefWire struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

type v2ChunkWire struct {
	MD5Compressed  string `json:"md5Compressed"`
	MD5            string `json:"md5"`
	CompressedSize int64  `json:"compressedSize"`
	Size           int64  `json:"size"`
}

type patchInfoWire struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Link  string `json:"link"`
	Error string `json:"error"`
}

type patchRootWire struct {
	Algorithm    string          `json:"algorithm"`
	ClientID     string          `json:"clientId"`
	ClientSecret string          `json:"clientSecret"`
	Depots       []patchDepotRefWire `json:"depots"`
}

type patchDepotRefWire struct {
	ProductID string   `json:"productId"`
	Manifest  string   `json:"manifest"`
	Languages []string `json:"languages"`
}

type patchDepotManifestWire struct {
	Depot struct {
		Items []patchItemWire `json:"items"`
	} `json:"depot"`
}

type patchItemWire struct {
	SourcePath string        `json:"sourcePath"`
	TargetPath string        `json:"targetPath"`
	MD5Source  string        `json:"md5Source"`
	MD5Target  string        `json:"md5Target"`
	Chunks     []v2ChunkWire `json:"chunks"`
}
