package mcprpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"reposcope/internal/envelope"
)

// MaxMessageSize bounds a single line on either side of the transport.
const MaxMessageSize = 4 * 1024 * 1024

func readRequest(scanner *bufio.Scanner) (Request, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Request{}, fmt.Errorf("reading stdin: %w", err)
		}
		return Request{}, io.EOF
	}
	var req Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		return Request{}, fmt.Errorf("parsing request: %w", err)
	}
	return req, nil
}

func writeResponse(w io.Writer, resp *envelope.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling response: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
