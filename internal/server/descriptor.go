package server

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ScanServiceFile is the descriptor of api/menusafety/v1/scan.proto. It is
// registered in protoregistry.GlobalFiles so server reflection can describe
// ScanService.
var ScanServiceFile protoreflect.FileDescriptor

func init() {
	fd, err := protodesc.NewFile(scanServiceFileProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("server: build %s descriptor: %v", ScanServiceDesc.Metadata, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("server: register %s: %v", ScanServiceDesc.Metadata, err))
	}
	ScanServiceFile = fd
}

// scanServiceFileProto builds the file from ScanServiceDesc, so the methods
// served and the methods described cannot drift apart.
func scanServiceFileProto() *descriptorpb.FileDescriptorProto {
	structName := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())
	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("ScanService")}
	for _, m := range ScanServiceDesc.Methods {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.MethodName),
			InputType:  proto.String(structName),
			OutputType: proto.String(structName),
		})
	}
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(ScanServiceDesc.Metadata.(string)),
		Package:    proto.String("menusafety.v1"),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service:    []*descriptorpb.ServiceDescriptorProto{svc},
		Syntax:     proto.String("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/joseph-ayodele/menu-safety/internal/server"),
		},
	}
}
