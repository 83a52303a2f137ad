package nativetest

import "encoding/binary"

// Node is one top-level record of a binary FBX document. Props is the
// property count; only the count is meaningful to the stub.
type Node struct {
	Name    string
	Payload []byte
	Props   uint32
}

// Document encodes a binary FBX container holding nodes, terminated by a
// null record.
func Document(version uint32, nodes ...Node) []byte {
	out := append([]byte(nil), Magic...)
	out = binary.LittleEndian.AppendUint32(out, version)

	wide := version >= wideVersion
	header := narrowNodeSize
	if wide {
		header = wideNodeSize
	}
	for _, n := range nodes {
		end := uint64(len(out) + header + len(n.Name) + len(n.Payload))
		if wide {
			out = binary.LittleEndian.AppendUint64(out, end)
			out = binary.LittleEndian.AppendUint64(out, uint64(n.Props))
			out = binary.LittleEndian.AppendUint64(out, uint64(len(n.Payload)))
		} else {
			out = binary.LittleEndian.AppendUint32(out, uint32(end))
			out = binary.LittleEndian.AppendUint32(out, n.Props)
			out = binary.LittleEndian.AppendUint32(out, uint32(len(n.Payload)))
		}
		out = append(out, byte(len(n.Name)))
		out = append(out, n.Name...)
		out = append(out, n.Payload...)
	}
	return append(out, make([]byte, header)...)
}

// MinimalDocument is a valid container with no elements.
func MinimalDocument() []byte {
	return Document(7400)
}

// CubeDocument has one model and a six-face geometry.
func CubeDocument() []byte {
	return Document(7400,
		Node{Name: "Model", Payload: []byte("Cube")},
		Node{Name: "Geometry", Props: 6, Payload: make([]byte, 48)},
		Node{Name: "Material", Payload: []byte("Default")},
	)
}

// LargeDocument has n geometry records of one face each, each with a
// payload of payload bytes.
func LargeDocument(n, payload int) []byte {
	nodes := make([]Node, n)
	for i := range nodes {
		nodes[i] = Node{Name: "Geometry", Props: 1, Payload: make([]byte, payload)}
	}
	return Document(7500, nodes...)
}
