package bucket

import (
	"context"
	"crypto/tls"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/interface/catalog"
	"github.com/jlaffaye/ftp"
)

// FTPProvider lists the products of an FTP directory, one file or folder per
// product. DirTemplate may use {COLLECTION}, e.g. "Images/{COLLECTION}".
type FTPProvider struct {
	Address     string // host:port, tls is assumed on port 990
	DirTemplate string
	User        string
	Pswd        string
	Collections []string // collections hosted by the server, all if empty
}

// NewFTPProvider creates an FTPProvider from an ftp url,
// e.g. ftp://ftp.example.org:21/Images/{COLLECTION}.
func NewFTPProvider(url, user, pswd string) *FTPProvider {
	url = strings.TrimPrefix(url, "ftp://")
	splits := strings.SplitN(url, "/", 2)
	if len(splits) == 1 {
		splits = append(splits, "")
	}
	return &FTPProvider{
		Address:     splits[0],
		DirTemplate: splits[1],
		User:        user,
		Pswd:        pswd,
	}
}

// Name implements SceneProvider
func (p *FTPProvider) Name() string {
	return "FTP"
}

// SearchScenes implements SceneProvider
func (p *FTPProvider) SearchScenes(ctx context.Context, query catalog.Query) ([]common.Scene, error) {
	collection := query.Collection.String()
	if len(p.Collections) != 0 && !contains(p.Collections, collection) {
		return nil, catalog.ErrCollectionNotFound{Collection: collection}
	}

	ftpOption := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(5 * time.Second)}
	if splitAddress := strings.SplitN(p.Address, ":", 2); len(splitAddress) == 2 && splitAddress[1] == "990" {
		ftpOption = append(ftpOption, ftp.DialWithTLS(&tls.Config{InsecureSkipVerify: true}))
	}
	c, err := ftp.Dial(p.Address, ftpOption...)
	if err != nil {
		return nil, fmt.Errorf("SearchScenes(FTP).Dial: %w", err)
	}
	defer c.Quit()

	if err := c.Login(p.User, p.Pswd); err != nil {
		return nil, fmt.Errorf("SearchScenes(FTP).Login: %w", err)
	}

	dir := common.FormatBrackets(p.DirTemplate, map[string]string{"COLLECTION": collection})
	entries, err := c.List(dir)
	if err != nil {
		return nil, fmt.Errorf("SearchScenes(FTP).List[%s]: %w", dir, err)
	}

	var scenes []common.Scene
	for _, entry := range entries {
		sourceID := strings.TrimSuffix(strings.TrimSuffix(entry.Name, ".zip"), ".SAFE")
		date, err := common.GetDateFromProductId(sourceID)
		if err != nil {
			continue // not a product
		}
		if !query.StartTime.IsZero() && date.Before(query.StartTime) {
			continue
		}
		if !query.EndTime.IsZero() && date.After(query.EndTime) {
			continue
		}
		scenes = append(scenes, common.Scene{
			SourceID: sourceID,
			Data: common.SceneAttrs{
				Date:   date,
				Assets: map[string]string{"product": fmt.Sprintf("ftp://%s/%s", p.Address, path.Join(dir, entry.Name))},
				Tags: map[string]string{
					common.TagSourceID:      sourceID,
					common.TagConstellation: common.GetConstellationFromProductId(sourceID).String(),
				},
			},
		})
	}
	return clientPage(scenes, query.Page, query.Limit), nil
}
