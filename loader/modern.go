// Copyright 2019 eBay Inc.
// Primary authors: Simon Fell, Diego Ongaro,
//                  Raymond Kroeker, and Sathish Kandasamy.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loader

import (
	"os"
	"path/filepath"
)

// WriteModern writes the 6-vertex TinkerPop "modern" graph into the given
// directory in the loader's file format. It's the sample data set used by
// the demo binary and the integration tests.
func WriteModern(root string) error {
	files := map[string]string{
		VertexLabelFile: "person 1\nsoftware 2\n",
		EdgeLabelFile:   "knows 1\ncreated 2\n",
		VertexPKeyFile:  "name 1 4\nage 2 1\nlang 3 4\n",
		EdgePKeyFile:    "weight 1 2\n",
		VerticesFile: `1 person
2 person
3 software
4 person
5 software
6 person
`,
		EdgesFile: `1 2 knows
1 4 knows
1 3 created
4 5 created
4 3 created
6 3 created
`,
		VertexPropFile: `1 name marko
1 age 29
2 name vadas
2 age 27
3 name lop
3 lang java
4 name josh
4 age 32
5 name ripple
5 lang java
6 name peter
6 age 35
`,
		EdgePropFile: `1 2 weight 0.5
1 4 weight 1.0
1 3 weight 0.4
4 5 weight 1.0
4 3 weight 0.4
6 3 weight 0.2
`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}
