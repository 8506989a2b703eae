package codec

import (
	"testing"

	"hippo4j-rpc/message"
)

type payload struct {
	Name  string
	Count int
}

func roundTripRequest(t *testing.T, c Codec) {
	t.Helper()

	original, err := message.NewRequest("127.0.0.1:8080pkg.Loaderload", "pkg.Loader", "load", "hippo4j", payload{Name: "x", Count: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}

	data, err := c.Encode(original)
	if err != nil {
		t.Fatalf("%s Encode failed: %v", c.Type(), err)
	}

	var decoded message.Request
	if err := c.Decode(data, &decoded); err != nil {
		t.Fatalf("%s Decode failed: %v", c.Type(), err)
	}

	if decoded.Key != original.Key || decoded.RID != original.RID {
		t.Errorf("key mismatch: got %s/%s, want %s/%s", decoded.Key, decoded.RID, original.Key, original.RID)
	}
	if !decoded.Equal(original) {
		t.Errorf("expect decoded request to equal original")
	}
	if decoded.ClassName != "pkg.Loader" || decoded.MethodName != "load" {
		t.Errorf("class/method mismatch: got %s.%s", decoded.ClassName, decoded.MethodName)
	}
	if len(decoded.Parameters) != 3 {
		t.Fatalf("expect 3 parameters, got %d", len(decoded.Parameters))
	}

	var s string
	if err := decoded.Param(0, &s); err != nil || s != "hippo4j" {
		t.Errorf("expect hippo4j, got %q (%v)", s, err)
	}
	var p payload
	if err := decoded.Param(1, &p); err != nil || p.Name != "x" || p.Count != 2 {
		t.Errorf("expect {x 2}, got %+v (%v)", p, err)
	}
	var nilParam *payload
	if err := decoded.Param(2, &nilParam); err != nil || nilParam != nil {
		t.Errorf("expect nil parameter to stay nil, got %+v (%v)", nilParam, err)
	}
}

func roundTripResponse(t *testing.T, c Codec) {
	t.Helper()

	req, _ := message.NewKeyRequest("sum", 1, 6)
	original, err := message.NewResponse(req, 7)
	if err != nil {
		t.Fatal(err)
	}

	data, err := c.Encode(original)
	if err != nil {
		t.Fatalf("%s Encode failed: %v", c.Type(), err)
	}
	var decoded message.Response
	if err := c.Decode(data, &decoded); err != nil {
		t.Fatalf("%s Decode failed: %v", c.Type(), err)
	}

	if decoded.RID != req.RID || decoded.Key != "sum" {
		t.Errorf("expect rid/key echo, got %s/%s", decoded.RID, decoded.Key)
	}
	var n int
	if err := decoded.Decode(&n); err != nil || n != 7 {
		t.Errorf("expect 7, got %d (%v)", n, err)
	}
}

func TestJSONCodec(t *testing.T) {
	c, err := GetCodec(CodecTypeJSON)
	if err != nil {
		t.Fatal(err)
	}
	roundTripRequest(t, c)
	roundTripResponse(t, c)
}

func TestGobCodec(t *testing.T) {
	c, err := GetCodec(CodecTypeGob)
	if err != nil {
		t.Fatal(err)
	}
	roundTripRequest(t, c)
	roundTripResponse(t, c)
}

func TestGetCodecUnknown(t *testing.T) {
	if _, err := GetCodec(CodecType(9)); err == nil {
		t.Fatal("expect error for unknown codec type")
	}
	if ct, err := ParseType("gob"); err != nil || ct != CodecTypeGob {
		t.Fatalf("expect gob, got %v (%v)", ct, err)
	}
	if _, err := ParseType("xml"); err == nil {
		t.Fatal("expect error for unknown codec name")
	}
}
