// Package cborcodec provides CBOR client and server codecs for net/rpc.
// Request/response headers and bodies are encoded as a plain CBOR stream
// over the connection.
package cborcodec

import (
	"bufio"
	"io"
	"net/rpc"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// header mirrors the parts of rpc.Request/rpc.Response that travel on the
// wire. Seq and ServiceMethod are enough, net/rpc fills in the rest.
type header struct {
	ServiceMethod string `cbor:"1,keyasint,omitempty"`
	Seq           uint64 `cbor:"2,keyasint,omitempty"`
	Error         string `cbor:"3,keyasint,omitempty"`
}

type codec struct {
	rwc io.ReadWriteCloser
	dec *cbor.Decoder
	wb  *bufio.Writer
	enc *cbor.Encoder
	rmu sync.Mutex
	wmu sync.Mutex
}

func newCodec(rwc io.ReadWriteCloser) *codec {
	wb := bufio.NewWriter(rwc)
	return &codec{
		rwc: rwc,
		dec: cbor.NewDecoder(rwc),
		wb:  wb,
		enc: cbor.NewEncoder(wb),
	}
}

func (c *codec) write(hdr *header, body any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.enc.Encode(hdr); err != nil {
		return err
	}
	if err := c.enc.Encode(body); err != nil {
		return err
	}
	return c.wb.Flush()
}

func (c *codec) read(v any) error {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	// A nil body still occupies one CBOR item on the stream
	if v == nil {
		var discard any
		return c.dec.Decode(&discard)
	}
	return c.dec.Decode(v)
}

func (c *codec) Close() error {
	return c.rwc.Close()
}

type ClientCodec struct {
	*codec
}

func NewClientCodec(rwc io.ReadWriteCloser) *ClientCodec {
	return &ClientCodec{codec: newCodec(rwc)}
}

func (c *ClientCodec) WriteRequest(req *rpc.Request, body any) error {
	return c.write(&header{ServiceMethod: req.ServiceMethod, Seq: req.Seq}, body)
}

func (c *ClientCodec) ReadResponseHeader(res *rpc.Response) error {
	hdr := &header{}
	if err := c.read(hdr); err != nil {
		return err
	}
	res.ServiceMethod = hdr.ServiceMethod
	res.Seq = hdr.Seq
	res.Error = hdr.Error
	return nil
}

func (c *ClientCodec) ReadResponseBody(body any) error {
	return c.read(body)
}

type ServerCodec struct {
	*codec
}

func NewServerCodec(rwc io.ReadWriteCloser) *ServerCodec {
	return &ServerCodec{codec: newCodec(rwc)}
}

func (c *ServerCodec) ReadRequestHeader(req *rpc.Request) error {
	hdr := &header{}
	if err := c.read(hdr); err != nil {
		return err
	}
	req.ServiceMethod = hdr.ServiceMethod
	req.Seq = hdr.Seq
	return nil
}

func (c *ServerCodec) ReadRequestBody(body any) error {
	return c.read(body)
}

func (c *ServerCodec) WriteResponse(res *rpc.Response, body any) error {
	return c.write(&header{ServiceMethod: res.ServiceMethod, Seq: res.Seq, Error: res.Error}, body)
}
