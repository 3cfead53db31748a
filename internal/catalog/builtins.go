package catalog

import (
	"context"
	"fmt"
)

// Builtins is the engine's standard command set.
func Builtins() []Command {
	return []Command{
		{
			Name:        "echo_message",
			Key:         "ECHO",
			Description: "Echo a message back from the engine.",
			Args:        []ArgSpec{{Name: "msg", Default: "TEST"}},
			Result:      WrapSegment("response"),
		},
		{
			Name:        "close_server",
			Key:         "EXIT",
			Description: "Ask the engine to shut down.",
			Result:      Discard(),
			Placeholder: true,
		},
		{
			Name:        "send_pose",
			Key:         "STORE_POSE",
			Description: "Store a PDB snapshot on the engine; the reply names it.",
			Args: []ArgSpec{
				{Name: "pose_name"},
				{Name: "pose_to_store", Required: true},
			},
			Result: WrapSegment("pose_name"),
		},
		{
			Name:        "request_pose",
			Key:         "SEND_POSE",
			Description: "Fetch a stored pose as PDB text.",
			Args:        []ArgSpec{{Name: "pose_name", Required: true, Default: "pose0"}},
			Result:      WrapSegment("pose_pdb"),
		},
		{
			Name:        "request_pose_info",
			Key:         "SEND_POSE_INFO",
			Description: "Fetch structured information about a stored pose.",
			Args:        []ArgSpec{{Name: "pose_name", Required: true, Default: "pose0"}},
			Result:      DecodeJSON(),
		},
		{
			Name:        "request_pose_list",
			Key:         "SEND_POSE_LIST",
			Description: "List the names of stored poses.",
			Result:      SplitSegment("pose_list"),
			Placeholder: true,
		},
		{
			Name:        "send_and_parse_xml",
			Key:         "PARSE_AND_RUN_XML",
			Description: "Submit a RosettaScripts XML protocol to run against a pose.",
			Args: []ArgSpec{
				{Name: "pose_name", Required: true},
				{Name: "xml", Required: true},
			},
			Result: Discard(),
		},
	}
}

func (c *Catalog) Echo(ctx context.Context, msg string) (string, error) {
	res, err := c.Invoke(ctx, "echo_message", map[string]any{"msg": msg})
	if err != nil {
		return "", err
	}
	return stringField(res, "response")
}

func (c *Catalog) CloseServer(ctx context.Context) error {
	_, err := c.Invoke(ctx, "close_server", nil)
	return err
}

// StorePose stores pdb under name, or under an engine-assigned name when
// name is empty, and returns the name the engine used.
func (c *Catalog) StorePose(ctx context.Context, name, pdb string) (string, error) {
	res, err := c.Invoke(ctx, "send_pose", map[string]any{"pose_name": name, "pose_to_store": pdb})
	if err != nil {
		return "", err
	}
	return stringField(res, "pose_name")
}

func (c *Catalog) RequestPose(ctx context.Context, name string) (string, error) {
	res, err := c.Invoke(ctx, "request_pose", map[string]any{"pose_name": name})
	if err != nil {
		return "", err
	}
	return stringField(res, "pose_pdb")
}

func (c *Catalog) RequestPoseInfo(ctx context.Context, name string) (map[string]any, error) {
	res, err := c.Invoke(ctx, "request_pose_info", map[string]any{"pose_name": name})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Catalog) RequestPoseList(ctx context.Context) ([]string, error) {
	res, err := c.Invoke(ctx, "request_pose_list", nil)
	if err != nil {
		return nil, err
	}
	list, ok := res["pose_list"].([]string)
	if !ok {
		return nil, fmt.Errorf("%w: pose_list", ErrReplyShape)
	}
	return list, nil
}

func (c *Catalog) ParseAndRunXML(ctx context.Context, name, xml string) error {
	_, err := c.Invoke(ctx, "send_and_parse_xml", map[string]any{"pose_name": name, "xml": xml})
	return err
}

func stringField(res Result, field string) (string, error) {
	s, ok := res[field].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrReplyShape, field)
	}
	return s, nil
}
