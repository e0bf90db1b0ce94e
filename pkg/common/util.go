//
//  Copyright © Manetu Inc. All rights reserved.
//

package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// PrettyPrint outputs a readable JSON representation of the provided data
// structure to stdout. It is a thin convenience wrapper around
// FprettyPrint for CLI commands that always print to the terminal.
func PrettyPrint(data interface{}) {
	FprettyPrint(os.Stdout, data)
}

// FprettyPrint writes a readable JSON representation of data to w, or the
// marshal error if data cannot be represented as JSON.
func FprettyPrint(w io.Writer, data interface{}) {
	p, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		fmt.Fprintln(w, err)
	} else {
		fmt.Fprintf(w, "%s \n", p)
	}
}
