// Package identity 提供查看者身份目录：逻辑档位（profile）到稳定地址与展示名的只读映射。
// 目录以接口注入，未来可替换为真实的通讯录服务而无需改动核心逻辑。
package identity

import "wachat/internal/models"

// Profile 一个可用身份：档位句柄 + 稳定地址（号码）+ 展示名。
type Profile struct {
	Handle string `yaml:"handle" json:"profile"`
	Phone  string `yaml:"phone" json:"wa_id"`
	Name   string `yaml:"name" json:"name"`
}

// Directory 只读身份目录。
type Directory interface {
	// Lookup 按档位句柄查询；未知句柄返回 ok=false。
	Lookup(handle string) (Profile, bool)
	// ByAddress 按地址反查；未收录的地址返回 ok=false。
	ByAddress(addr string) (Profile, bool)
	// Contacts 返回除 viewer 地址外的全部条目。
	Contacts(viewer string) []models.Contact
}

// StaticDirectory 基于配置的静态目录实现。
type StaticDirectory struct {
	profiles []Profile
}

func NewStaticDirectory(profiles []Profile) *StaticDirectory {
	return &StaticDirectory{profiles: profiles}
}

func (d *StaticDirectory) Lookup(handle string) (Profile, bool) {
	for _, p := range d.profiles {
		if p.Handle == handle {
			return p, true
		}
	}
	return Profile{}, false
}

func (d *StaticDirectory) ByAddress(addr string) (Profile, bool) {
	for _, p := range d.profiles {
		if p.Phone == addr {
			return p, true
		}
	}
	return Profile{}, false
}

func (d *StaticDirectory) Contacts(viewer string) []models.Contact {
	out := make([]models.Contact, 0, len(d.profiles))
	for _, p := range d.profiles {
		if p.Phone == viewer {
			continue
		}
		out = append(out, models.Contact{PeerID: p.Phone, Name: p.Name, Profile: p.Handle})
	}
	return out
}

// DisplayName 地址的展示名：目录命中返回姓名，否则回退为地址本身。
func DisplayName(d Directory, addr string) string {
	if p, ok := d.ByAddress(addr); ok {
		return p.Name
	}
	return addr
}
