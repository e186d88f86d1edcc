package bundle

// Kind identifies the asset class a file reference belongs to.
type Kind int

const (
	KindMesh Kind = iota + 1
	KindTexture
	KindHeightField
	KindSkin
)

func (k Kind) String() string {
	switch k {
	case KindMesh:
		return "mesh"
	case KindTexture:
		return "texture"
	case KindHeightField:
		return "hfield"
	case KindSkin:
		return "skin"
	default:
		return "unknown"
	}
}

// Hints carries the scene-wide directory hints. MeshDir is prefixed onto mesh
// references, TextureDir onto texture references; heightfields and skins have
// no governing hint.
type Hints struct {
	MeshDir    string
	TextureDir string
}

// For returns the hint that governs references of kind k.
func (h Hints) For(k Kind) string {
	switch k {
	case KindMesh:
		return h.MeshDir
	case KindTexture:
		return h.TextureDir
	default:
		return ""
	}
}

// Reference is one file attribute on one asset declaration.
type Reference struct {
	Kind Kind
	Name string
	Attr string
	File string
}

// Scene is the read-only view of a scene description the bundler works from.
// Implementations adapt whatever the scene compiler produces; see package mjcf.
type Scene interface {
	BaseDir() string
	ModelName() string
	Hints() Hints
	References() []Reference
	XML() ([]byte, error)
}

// CubeFaceAttrs lists the texture cube-face file attributes in face order.
var CubeFaceAttrs = [6]string{"fileright", "fileleft", "fileup", "filedown", "filefront", "fileback"}
